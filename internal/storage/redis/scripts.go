package redis

const (
	// saveRecordScript writes the record blob and its metadata hash together.
	// It refuses to overwrite a record saved by a newer schema.
	saveRecordScript = `
local record_key = KEYS[1]    -- usagestat:record:{key}
local meta_key = KEYS[2]      -- usagestat:record:{key}:meta

local blob = ARGV[1]
local schema_version = tonumber(ARGV[2])
local saved_at = ARGV[3]

local stored = redis.call('HGET', meta_key, 'schema_version')
if stored and tonumber(stored) > schema_version then
  return redis.error_reply('NEWER_SCHEMA')
end

redis.call('SET', record_key, blob)
redis.call('HSET', meta_key,
  'schema_version', ARGV[2],
  'saved_at', saved_at,
  'size', tostring(string.len(blob))
)

return 'OK'
`
)
