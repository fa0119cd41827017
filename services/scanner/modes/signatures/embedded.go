// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package signatures embeds the threat signature definitions used by the
// pattern detection strategy.
package signatures

import _ "embed"

//go:embed threat_signatures.yaml
var ThreatSignatures []byte
