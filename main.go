package main

import "clipstream/internal/app"

func main() {
	app.Run()
}
