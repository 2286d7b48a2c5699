/*
Copyright 2024 Blnk Finance Authors.

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

// Package imaging validates, transforms and serializes received image objects.
package imaging

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/dimse"
)

// Stage is one transform step. A stage must not mutate elements of its input;
// it replaces them in its own copy of the dataset.
type Stage interface {
	Name() string
	Apply(ds *dicom.Dataset) (*dicom.Dataset, error)
}

// Result is the outcome of a pipeline run. Dataset is always usable: a stage
// that fails leaves the output of the previous stage in place and adds a
// warning instead.
type Result struct {
	Dataset  *dicom.Dataset
	Warnings []string
}

type Pipeline struct {
	stages []Stage
}

func NewPipeline(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// NewPipelineFromConfig builds the default resize and compress pipeline. A
// transform explicitly disabled yields an empty pipeline.
func NewPipelineFromConfig(cfg config.TransformConfig, codec FrameCodec) *Pipeline {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return NewPipeline()
	}
	return NewPipeline(NewResizer(cfg.MaxDimension), NewCompressionStage(codec))
}

// Apply runs every stage in order and never fails.
func (p *Pipeline) Apply(ds *dicom.Dataset) Result {
	result := Result{Dataset: ds}
	for _, stage := range p.stages {
		out, err := runStage(stage, dimse.Clone(result.Dataset))
		if err != nil {
			warning := fmt.Sprintf("%s: %v", stage.Name(), err)
			logrus.WithField("stage", stage.Name()).Warnf("transform stage failed, keeping previous output: %v", err)
			result.Warnings = append(result.Warnings, warning)
			continue
		}
		result.Dataset = out
	}
	return result
}

func runStage(stage Stage, ds *dicom.Dataset) (out *dicom.Dataset, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = stage.Apply(ds)
	if err == nil && out == nil {
		err = fmt.Errorf("stage returned no dataset")
	}
	return out, err
}
