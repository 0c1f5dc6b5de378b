//go:build !cgo

package main

import (
	"errors"

	"github.com/dusk-indust/orchestra/internal/graphstore"
)

func openKuzu(string) (graphstore.Store, error) {
	return nil, errors.New("graphstore: the kuzu driver needs a cgo build")
}
