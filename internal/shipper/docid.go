// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package shipper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cardinalhq/logrunner/internal/sources"
)

// DocumentID derives a stable document ID from the record's identity and
// position. Re-shipping the same record after a crash or replay produces
// the same ID, so the bulk create collides instead of duplicating.
func DocumentID(rec sources.Record) string {
	sum := sha256.Sum256([]byte(rec.Identity.Key()))
	prefix := hex.EncodeToString(sum[:])[:10]
	if rec.Cursor.Unit > 0 {
		return fmt.Sprintf("%s-%06d-%012d", prefix, rec.Cursor.Unit, rec.Start)
	}
	return fmt.Sprintf("%s-%012d", prefix, rec.Start)
}
