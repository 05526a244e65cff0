package logging

import (
	"go.uber.org/zap"
)

type impl struct {
	name string
	*zap.SugaredLogger
}

func fromZap(name string, logger *zap.Logger) Logger {
	sugar := logger.Sugar()
	if name != "" {
		sugar = sugar.Named(name)
	}
	return &impl{name: name, SugaredLogger: sugar}
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = imp.name + "." + subname
	}
	return &impl{name: newName, SugaredLogger: imp.SugaredLogger.Named(subname)}
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.SugaredLogger.Desugar()
}

func (imp *impl) Sync() error {
	return imp.SugaredLogger.Sync()
}
