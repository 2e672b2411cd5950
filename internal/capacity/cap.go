// Copyright 2026 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package capacity converts layer image sizes without silent overflow.
package capacity

import (
	"fmt"
	"math"
)

// GiB is the unit image capacities are configured in.
const GiB = 1 << 30

// Mul returns a*b if it doesn't overflow, otherwise 0.
func Mul(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return 0
	}
	return a * b
}

// Bytes returns the size of an image of gib GiB.
func Bytes(gib int) (int64, error) {
	n := Mul(int64(gib), GiB)
	if n == 0 {
		return 0, fmt.Errorf("invalid image capacity %d GiB", gib)
	}
	return n, nil
}
