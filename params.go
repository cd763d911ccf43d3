// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/btcd/chaincfg"
)

// params is used to group parameters for the various networks such as the
// main network and test networks.
type params struct {
	*chaincfg.Params
	peerPort string
}

// mainNetParams contains parameters specific to the main network.
var mainNetParams = params{
	Params:   &chaincfg.MainNetParams,
	peerPort: "8333",
}

// testNet3Params contains parameters specific to the test network (version
// 3).
var testNet3Params = params{
	Params:   &chaincfg.TestNet3Params,
	peerPort: "18333",
}

// simNetParams contains parameters specific to the simulation test network.
var simNetParams = params{
	Params:   &chaincfg.SimNetParams,
	peerPort: "18555",
}

// activeNetParams is a pointer to the parameters specific to the currently
// active network.
var activeNetParams = &mainNetParams
