// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the per-session cache of models offered by the
// completion API.
//
// A Catalog is an explicit object owned by its caller; there is no
// package-level cache. Remote ordering is preserved.
package catalog
