// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"fmt"
	"strings"

	rerrors "remotesql/cli/internal/errors"
)

// PresentError formats an error for the last line of output, with secrets masked.
// Error records carry their numeric type and HTTP status when known.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	if context != "" {
		b.WriteString(context)
		b.WriteString(": ")
	}
	b.WriteString(err.Error())

	if e, ok := rerrors.As(err); ok {
		fmt.Fprintf(&b, " (type %d", e.Type)
		if e.HTTPStatus != 0 {
			fmt.Fprintf(&b, ", HTTP %d", e.HTTPStatus)
			if e.HTTPMessage != "" {
				b.WriteString(" " + e.HTTPMessage)
			}
		}
		b.WriteString(")")
	}

	return Mask(b.String())
}
