// Package feed owns a viewing session: it maps the ordered item list onto a
// fixed pool of slot controllers, forwards viewport changes to the playback
// selector, and keeps a resolution window of neighbors warm around the
// frontmost item.
package feed
