// Package offline orchestrates offline downloads of a tile region and its
// style pack.
//
// A Manager runs at most one download session at a time. Each session loads
// the style pack and the tile region concurrently through the platform
// adapter (StylePackManager and TileStore), funnels every progress callback
// and completion through one coordinator goroutine, and reports to an
// events.Sink:
//
//	start, (styleProgress | tileProgress)*, [error(style|tiles)]*, success | error(region)
//
// The session returns to idle before the terminal event is emitted, so an
// observer reacting to it can start the next download straight away.
package offline
