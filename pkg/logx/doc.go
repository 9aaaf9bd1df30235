// Package logx wraps zerolog for surveybot.
//
// Console output is human readable, the optional file sink is JSON, and
// warnings can be mirrored into an operator chat through an OperatorSink.
// Loggers obtained from a Service follow Service.Apply, so a config reload
// changes level and sinks without re-wiring components.
package logx
