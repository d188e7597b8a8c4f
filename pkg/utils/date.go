package utils

import (
	"log"
	"sync"
	"time"
	_ "time/tzdata"
)

var (
	marketLoc     *time.Location
	marketLocOnce sync.Once
)

// MarketLocation returns the America/New_York location used for US market hours.
func MarketLocation() *time.Location {
	marketLocOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			log.Fatal("Failed to load location", err)
		}
		marketLoc = loc
	})
	return marketLoc
}
