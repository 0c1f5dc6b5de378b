//go:build cgo

package main

import "github.com/dusk-indust/orchestra/internal/graphstore"

func openKuzu(path string) (graphstore.Store, error) {
	if path == "" {
		return graphstore.NewKuzuStore()
	}
	return graphstore.NewKuzuFileStore(path)
}
