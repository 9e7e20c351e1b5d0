package main

import (
	"os"

	"horse.fit/anchor-pipeline/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
