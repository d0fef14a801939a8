// Package download provides the download coordinator, which guarantees at
// most one in-flight fetch per asset across all cells, and the fetcher that
// materializes a resolved remote reference as a local raw file.
package download
