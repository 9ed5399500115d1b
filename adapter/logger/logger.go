package logger

type Logger interface {
	Log(msg string)
}
