// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package patterns embeds the PII redaction pattern definitions into the
// binary so the redactor has no runtime file dependencies.
package patterns

import _ "embed"

//go:embed pii_patterns.yaml
var PIIPatterns []byte
