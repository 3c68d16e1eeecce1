// File: models/types.go
package models

import (
	"encoding/json"
	"fmt"

	ledgererrors "voter-ledger/errors"
)

// Step is a stage of the multi-factor verification pipeline
type Step int

const (
	StepIDVerification Step = iota + 1
	StepFaceVerification
	StepIrisVerification
	StepVoteCast
)

var stepNames = map[Step]string{
	StepIDVerification:   "id_verification",
	StepFaceVerification: "face_verification",
	StepIrisVerification: "iris_verification",
	StepVoteCast:         "vote_cast",
}

// AllSteps lists the three verification steps that gate a vote cast
func AllSteps() []Step {
	return []Step{StepIDVerification, StepFaceVerification, StepIrisVerification}
}

// ParseStep validates an untrusted step name
func ParseStep(name string) (Step, error) {
	for step, n := range stepNames {
		if n == name {
			return step, nil
		}
	}
	return 0, ledgererrors.NewInvalidStep(name)
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s is one of the four recognised steps
func (s Step) Valid() bool {
	_, ok := stepNames[s]
	return ok
}

func (s Step) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, ledgererrors.NewInvalidStep(s.String())
	}
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	step, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = step
	return nil
}

// StepNames converts steps to their wire names
func StepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}
	return names
}
