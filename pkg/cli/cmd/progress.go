/*
Copyright © 2026 The echomind Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import "strings"

// StageInfo is the display model derived from raw backend progress.
// DisplayPercent is monotonic: it never moves backwards even when the
// backend reports a lower number after a retry.
type StageInfo struct {
	StageIndex     int
	StageLabel     string
	DisplayPercent int
	IsComplete     bool
	SafeToClose    bool
}

type stageDefinition struct {
	name       string
	minPercent int
	maxPercent int
}

var importStages = []stageDefinition{
	{name: "Upload", minPercent: 0, maxPercent: 49},
	{name: "Extract", minPercent: 50, maxPercent: 59},
	{name: "Analyze", minPercent: 60, maxPercent: 79},
	{name: "Build Profile", minPercent: 80, maxPercent: 100},
}

func stageLabel(backendStage string, percent int) string {
	if percent >= 100 {
		return "Complete!"
	}

	if backendStage == "" {
		switch {
		case percent < 50:
			return "Uploading your data..."
		case percent < 60:
			return "Extracting conversations..."
		case percent < 80:
			return "Analyzing your personality..."
		default:
			return "Building your profile..."
		}
	}

	stage := strings.ToLower(backendStage)
	switch {
	case stage == "pending":
		return "Preparing your import..."
	case stage == "failed":
		return "Import failed"
	case stage == "complete":
		return "Complete!"
	case strings.Contains(stage, "download") || strings.Contains(stage, "upload"):
		return "Uploading your data..."
	case strings.Contains(stage, "process") || strings.Contains(stage, "pars") || strings.Contains(stage, "extract"):
		return "Extracting conversations..."
	case strings.Contains(stage, "generat") || strings.Contains(stage, "soulprint") || strings.Contains(stage, "analyz"):
		return "Analyzing your personality..."
	case strings.Contains(stage, "quick") || strings.Contains(stage, "build") || strings.Contains(stage, "profile") || strings.Contains(stage, "embed"):
		return "Building your profile..."
	}

	cleaned := strings.ReplaceAll(backendStage, "_", " ")
	return strings.ToUpper(cleaned[:1]) + cleaned[1:]
}

func stageIndexFromPercent(percent int) int {
	for i, stage := range importStages {
		if percent >= stage.minPercent && percent <= stage.maxPercent {
			return i
		}
	}
	return len(importStages) - 1
}

// stageProgress reports how far through a single stage the overall
// percent is, clamped to [0, 100].
func stageProgress(stageIndex, overallPercent int) int {
	if stageIndex < 0 || stageIndex >= len(importStages) {
		return 0
	}

	stage := importStages[stageIndex]
	spread := stage.maxPercent - stage.minPercent
	within := (overallPercent - stage.minPercent) * 100 / spread

	return min(100, max(0, within))
}

func mapProgress(backendPercent int, backendStage string, lastKnownPercent int) StageInfo {
	effective := max(backendPercent, lastKnownPercent)
	effective = min(100, max(0, effective))

	return StageInfo{
		StageIndex:     stageIndexFromPercent(effective),
		StageLabel:     stageLabel(backendStage, effective),
		DisplayPercent: effective,
		IsComplete:     effective >= 100,
		SafeToClose:    effective >= 55,
	}
}
