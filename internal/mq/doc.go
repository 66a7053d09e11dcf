// Package mq — обмен сообщениями о runs через RabbitMQ.
//
// Запросы run.launch и run.terminate попадают в очереди runs.launch и
// runs.terminate (exchange automata.runs) и обрабатываются Coordinator.
// События run.launched и run.terminated публикуются в topic exchange
// automata.events для внешних подписчиков.
//
// Публикация ждёт publisher confirm. Сообщения, которые не удалось
// обработать, уходят в dlq.runs.
package mq
