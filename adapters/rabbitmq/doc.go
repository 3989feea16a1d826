/*
Package rabbitmq carries order events over RabbitMQ.

Sender publishes envelopes to a topic exchange with the topic as routing key. Receiver consumes
a quorum queue with manual acknowledgement: Nack requeues, and the queue's x-delivery-limit
dead-letters a message through the configured dead-letter exchange once it is exhausted.
NewWithAMQPConn wires both halves to one auto-reconnecting connection.
*/
package rabbitmq
