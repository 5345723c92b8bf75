package main

// Include GoMLX backends.

import (
	_ "github.com/gomlx/gomlx/backends/default"
)
