// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry records the lifecycle of build requests.
//
// Every transition (prepare, patch, test, merge, rollback, restore) is
// appended as an Event under the request's key prefix in BadgerDB. Events are
// never rewritten or deleted; a request's current state is obtained by
// folding its trail (see Registry.Get).
//
// # Usage
//
//	reg := registry.New(db, logger)
//	id, _, err := reg.CreateOrReuse(ctx, "")
//	_, err = reg.Record(ctx, id, registry.Event{
//	    Action: registry.ActionPrepare,
//	    State:  registry.StatePrepared,
//	})
package registry
