// Copyright (C) 2024 The Incload Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package atrace

import (
	"github.com/incload/incload/lib/logger"
)

var l = logger.DefaultLogger.NewFacility("atrace", "Kernel trace markers and the trace state watcher")
