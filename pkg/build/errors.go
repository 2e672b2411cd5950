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

package build

import "fmt"

// PreconditionError is returned when a stage runs before the stage that
// produces its input.
type PreconditionError struct {
	// Missing is the absent artifact.
	Missing string
	// Stage is the command that creates it.
	Stage string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s does not exist, run 'genpack %s' first", e.Missing, e.Stage)
}

// IntegrityError is returned when an external tool produced output that
// violates what the build relies on.
type IntegrityError struct {
	Tool   string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Detail)
}
