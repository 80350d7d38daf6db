package main

import (
	"fmt"
	"os"

	"github.com/bluesky-social/botdetect/classifier/onnxengine"

	"github.com/urfave/cli/v2"
	ort "github.com/yalue/onnxruntime_go"
)

type tensorInfo struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	DataType string `json:"dataType,omitempty"`
	Shape    string `json:"shape,omitempty"`
}

type modelInfo struct {
	Path    string       `json:"path"`
	Inputs  []tensorInfo `json:"inputs"`
	Outputs []tensorInfo `json:"outputs"`
}

func describeTensors(infos []ort.InputOutputInfo) []tensorInfo {
	out := make([]tensorInfo, len(infos))
	for i, info := range infos {
		ti := tensorInfo{
			Name: info.Name,
			Kind: fmt.Sprint(info.OrtValueType),
		}
		if info.OrtValueType == ort.ONNXTypeTensor {
			ti.DataType = fmt.Sprint(info.DataType)
			ti.Shape = fmt.Sprint(info.Dimensions)
		}
		out[i] = ti
	}
	return out
}

func runInspectModel(cctx *cli.Context) error {
	configLogger(cctx, os.Stderr)

	path := cctx.String("model-path")
	inputs, outputs, err := onnxengine.Inspect(path, cctx.String("onnxruntime-lib"))
	if err != nil {
		return fmt.Errorf("inspecting model %s: %w", path, err)
	}
	return writeJSON(os.Stdout, modelInfo{
		Path:    path,
		Inputs:  describeTensors(inputs),
		Outputs: describeTensors(outputs),
	})
}
