// Package mq — обмен сообщениями через RabbitMQ.
//
// Топология:
//
//	courier.tasks (direct)
//	└── tasks.submitted [routing: submitted]
//	        Consumer: Dispatcher
//	        DLQ: dlq.tasks
//
//	courier.callbacks (direct)
//	└── callbacks.received [routing: received]
//	        Consumer: Correlator
//	        DLQ: dlq.callbacks
//
//	courier.dlq (direct)
//	├── dlq.tasks [routing: tasks]
//	└── dlq.callbacks [routing: callbacks]
//	        Manual processing
//
// Очереди — это только уведомления «появилась работа»: источником истины
// остаётся Postgres, потребители перечитывают запись по ID и опираются
// на CAS-переходы статусов. Поэтому потеря сообщения не теряет работу —
// её подхватывает polling fallback.
package mq
