//go:build !unix

package av

// Linux values; native libraries on these platforms are not loaded.
const (
	errnoENOENT int32 = 2
	errnoENOMEM int32 = 12
	errnoEAGAIN int32 = 11
	errnoEISDIR int32 = 21
	errnoEIO    int32 = 5
)
