package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so upload and
// import activity can be aggregated and queried by key.
const (
	// ========================================================================
	// Request
	// ========================================================================
	KeyRequestID = "request_id" // Correlates every log line of one HTTP request
	KeyMethod    = "method"     // HTTP method
	KeyRoute     = "route"      // Request path
	KeyStatus    = "status"     // HTTP status code
	KeyClientIP  = "client_ip"  // Client IP address

	// ========================================================================
	// Upload Lifecycle
	// ========================================================================
	KeyUploadID   = "upload_id"   // Upload session identifier
	KeyFilename   = "filename"    // Original filename as sent by the client
	KeyStoredName = "stored_name" // Collision-safe stored filename
	KeyMimeType   = "mime_type"   // Declared MIME type
	KeyChunkIndex = "chunk_index" // Zero-based chunk index
	KeyChunkSize  = "chunk_size"  // Chunk payload size in bytes
	KeyTotalSize  = "total_size"  // Declared total size in bytes
	KeyChunks     = "chunks"      // Chunk count (uploaded or total)
	KeyChecksum   = "checksum"    // SHA-256 hex digest
	KeyUploadStat = "upload_status"

	// ========================================================================
	// Image Variants
	// ========================================================================
	KeyImageID = "image_id" // Image record identifier
	KeyVariant = "variant"  // Variant name: original, small, medium, large
	KeyWidth   = "width"    // Pixel width
	KeyHeight  = "height"   // Pixel height

	// ========================================================================
	// CSV Import
	// ========================================================================
	KeyImportID   = "import_id" // Import log identifier
	KeyRow        = "row"       // 1-based data row number (header excluded)
	KeySKU        = "sku"       // Product SKU
	KeyProductID  = "product_id"
	KeyImageRef   = "image_ref" // primary_image cell value
	KeyImportStat = "import_status"

	// ========================================================================
	// Background Jobs
	// ========================================================================
	KeyJobKind    = "job_kind" // Job type: variant_generate, image_fetch
	KeyAttempt    = "attempt"  // Retry attempt number
	KeyMaxRetries = "max_retries"

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyPath       = "path"        // Blob or filesystem path
	KeyCount      = "count"       // Generic count
)
