package main

import (
	"github.com/vanpelt/purrlog/internal/cmd"
)

func main() {
	cmd.Execute()
}
