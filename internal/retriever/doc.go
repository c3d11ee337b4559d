// Package retriever answers top-k similarity queries against a stored
// collection, optionally restricted by a single metadata equality filter.
package retriever
