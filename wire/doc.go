/*
Package wire implements the render stream protocol spoken between a renderer
and the viewer.

Every message starts with a 4 byte key, followed by a body that depends on
the key:

	key=0 Header
		session       int64
		xres, yres    int32
		pixel_aspect  float32
		region_area   int64
		version       int32   (packed, see PackVersion)
		frame         float32
		camera_fov    float32
		camera_matrix 16 x float32 (row-major 4x4)
		samples       6 x int32 (AA, diffuse, specular, transmission, sss, volume)
		output_name   string

	key=1 Pixels
		session       int64
		xres, yres    int32
		bucket_x      int32
		bucket_y      int32
		bucket_width  int32
		bucket_height int32
		spp           int32
		memory        int64   (bytes)
		elapsed       int32   (milliseconds)
		aov_name      string
		data          bucket_width * bucket_height * spp x float32

	key=2 Close   (no body)
	key=9 Quit    (no body)

A string is a uint64 byte count followed by that many bytes. The count
includes a terminating NUL byte, which the decoder strips.

All numeric fields are little-endian. Peers that wrote their native memory
layout on 64-bit little-endian hosts (x86-64, arm64) produce exactly these
bytes.

Pixel data is row-major and channel-interleaved: the channel index varies
fastest, then the column, then the row. Rows count upward from the bottom
of the image, as renderers emit them.
*/
package wire
