/*
Package servicebus provides a thin, opinionated mediator for commands, queries and notifications.

Handlers, subscribers and behaviors are registered on a Registry at process start. Building a
Dispatcher, NotificationBus or Bus from the registry seals it; from then on it is read-only.
Requests go to exactly one handler through the ordered behavior pipeline, notifications go to
every subscriber of their type.
*/
package servicebus
