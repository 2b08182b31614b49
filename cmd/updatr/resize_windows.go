//go:build windows

package main

import "github.com/loykin/updatr/internal/controller"

func watchResize(*controller.Controller) func() { return func() {} }
