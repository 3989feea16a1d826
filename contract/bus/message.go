package bus

// Command is a marker interface for commands (intent to change state).
// A command has exactly one handler. Whether it returns a response is fixed when its
// handler is registered.
type Command interface{}

// Query is a marker interface for queries. Queries are handled synchronously, always
// return a response and must not change state.
type Query interface{}
