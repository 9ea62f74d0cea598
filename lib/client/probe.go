// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/dedupvault/lib/fingerprint"
	"github.com/bureau-foundation/dedupvault/lib/wire"
)

// Probe reports, for each fingerprint, whether the server already
// stores that chunk. Queries are split to respect MaxPayload and all
// travel over a single connection.
func (c *Client) Probe(ctx context.Context, fps []fingerprint.Fingerprint) ([]bool, error) {
	found := make([]bool, 0, len(fps))
	if len(fps) == 0 {
		return found, nil
	}
	connection, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer connection.Close()
	defer connection.closeOnCancel(ctx)()

	perFrame := max(c.config.MaxPayload/fingerprint.Size, 1)
	for start := 0; start < len(fps); start += perFrame {
		batch := fps[start:min(start+perFrame, len(fps))]
		if err := connection.write(wire.ClientQueryFingerprints, len(batch), wire.EncodeFingerprints(batch)); err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		header, status, err := connection.expect("probe", wire.ServerFingerprintStatus)
		if err != nil {
			return nil, err
		}
		if int(header.ItemCount) != len(batch) || len(status) != len(batch) {
			return nil, fmt.Errorf("probe: %w: %d statuses for %d fingerprints", wire.ErrMalformed, len(status), len(batch))
		}
		for _, value := range status {
			found = append(found, value != 0)
		}
	}
	return found, nil
}
