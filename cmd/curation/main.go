package main

import (
	"os"

	"horse.fit/curation/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
