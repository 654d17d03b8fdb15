package main

import (
	"os"

	"github.com/NarayanBavisetti/roomvia-sub000/internal/ctl"
)

func main() {
	os.Exit(ctl.Execute())
}
