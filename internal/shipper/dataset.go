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
	"fmt"
	"strings"

	"github.com/cardinalhq/logrunner/internal/sources"
)

// DefaultNamespace partitions indices when the input does not name one.
const DefaultNamespace = "default"

var datasetsByPathFragment = []struct {
	fragment string
	dataset  string
}{
	{"CloudTrail-Digest/", "aws.cloudtrail_digest"},
	{"CloudTrail-Insight/", "aws.cloudtrail_insight"},
	{"CloudTrail/", "aws.cloudtrail"},
	{"elasticloadbalancing/", "aws.elb_logs"},
	{"network-firewall/", "aws.firewall_logs"},
	{"vpcflowlogs/", "aws.vpcflow"},
	{"WAFLogs/", "aws.waf"},
	{"StorageLens/", "aws.s3_storage_lens"},
	{"/aws/lambda/", "aws.lambda"},
	{"/sns/", "aws.sns"},
}

// DiscoverDataset guesses a well-known dataset from the record's path when
// the input did not pin one. Unknown shapes land in the generic dataset.
func DiscoverDataset(rec sources.Record) string {
	if rec.Dataset != "" {
		return rec.Dataset
	}
	switch rec.Identity.Type {
	case sources.TypeSubscription:
		return "aws.cloudwatch_logs"
	case sources.TypeObjectStore:
		for _, m := range datasetsByPathFragment {
			if strings.Contains(rec.Path, m.fragment) {
				return m.dataset
			}
		}
	}
	return "generic"
}

// IndexFor builds the data-stream name records are shipped into.
func IndexFor(rec sources.Record) string {
	namespace := rec.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return fmt.Sprintf("logs-%s-%s", DiscoverDataset(rec), namespace)
}
