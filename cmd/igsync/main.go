package main

import (
	// Schedules and event dates need IANA zones even in scratch images
	_ "time/tzdata"
)

func main() {
	Execute()
}
