//go:build mage
// +build mage

package main

import (
	"context"

	"github.com/livekit/mageutil"
)

var Default = Build

func Build() error {
	return mageutil.Run(context.Background(), "go build -o bin/whip-client ./cmd/whip-client")
}

func Test() error {
	return mageutil.Run(context.Background(), "go test -count 1 ./pkg/...")
}
