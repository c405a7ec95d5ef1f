// Package urls holds the documentation links quoted in error hints, so
// they can be updated in one place.
//
//	fmt.Printf("See: %s\n", urls.OpenOCDGDBEvents)
package urls
