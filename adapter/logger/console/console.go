package console

import (
	"log"
	"os"
)

type console struct {
	logger *log.Logger
}

func New() *console {
	return &console{logger: log.New(os.Stderr, "", log.LstdFlags)}
}

func (c *console) Log(msg string) {
	c.logger.Println(msg)
}
