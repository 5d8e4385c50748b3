package util

import (
	"github.com/fatih/color"
)

var (
	redFn    = color.New(color.FgRed).SprintFunc()
	yellowFn = color.New(color.FgYellow).SprintFunc()
	greenFn  = color.New(color.FgGreen).SprintFunc()
	cyanFn   = color.New(color.FgCyan).SprintFunc()
)

func Red(s string) string {
	return redFn(s)
}

func Yellow(s string) string {
	return yellowFn(s)
}

func Green(s string) string {
	return greenFn(s)
}

func Cyan(s string) string {
	return cyanFn(s)
}
