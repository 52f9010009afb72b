package main

import (
	"github.com/fatih/color"
)

func cyan(s string) string {
	return color.New(color.FgHiCyan).SprintFunc()(s)
}

func green(s string) string {
	return color.New(color.FgHiGreen).SprintFunc()(s)
}

func yellow(s string) string {
	return color.New(color.FgHiYellow).SprintFunc()(s)
}

func red(s string) string {
	return color.New(color.FgHiRed).SprintFunc()(s)
}
