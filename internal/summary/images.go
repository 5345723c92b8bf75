package summary

import (
	"image"
	"image/color"
)

// WeightImages renders the weights connected to the input image as grayscale images, one per
// output unit, up to maxImages.
//
// weights is the flat row-major content of a [height, width, channels, units] tensor: either
// a convolution kernel or the weights of a dense layer over a flattened
// [height, width, channels] input. The channels are laid side by side, so each image is
// height x (width*channels) pixels. Each image is normalized to its own min/max.
func WeightImages(weights []float32, height, width, channels, units, maxImages int) []image.Image {
	if height*width*channels*units != len(weights) || units == 0 {
		return nil
	}
	numImages := min(units, maxImages)
	images := make([]image.Image, 0, numImages)
	for unit := range numImages {
		unitWeights := make([]float32, 0, height*width*channels)
		for pos := 0; pos < height*width*channels; pos++ {
			unitWeights = append(unitWeights, weights[pos*units+unit])
		}
		lo, hi := unitWeights[0], unitWeights[0]
		for _, v := range unitWeights {
			lo, hi = min(lo, v), max(hi, v)
		}
		scale := float32(0)
		if hi > lo {
			scale = 255 / (hi - lo)
		}
		img := image.NewGray(image.Rect(0, 0, width*channels, height))
		for y := range height {
			for x := range width {
				for c := range channels {
					v := unitWeights[(y*width+x)*channels+c]
					img.SetGray(x*channels+c, y, color.Gray{Y: uint8((v-lo)*scale + 0.5)})
				}
			}
		}
		images = append(images, img)
	}
	return images
}
