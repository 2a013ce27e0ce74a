package postgres

const queryInsertEvent = `
INSERT INTO events (site_id, event_type, path, user_id, "timestamp", processed_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id
`

const queryTotalViews = `
SELECT COUNT(*)
FROM events
WHERE site_id = $1
  AND ($2::timestamptz IS NULL OR "timestamp" >= $2)
  AND ($3::timestamptz IS NULL OR "timestamp" <= $3)
`

const queryUniqueUsers = `
SELECT COUNT(DISTINCT user_id)
FROM events
WHERE site_id = $1
  AND ($2::timestamptz IS NULL OR "timestamp" >= $2)
  AND ($3::timestamptz IS NULL OR "timestamp" <= $3)
`

// Ties on view count break on path ascending so rankings are deterministic.
const queryTopPaths = `
SELECT path, COUNT(*) AS views
FROM events
WHERE site_id = $1
  AND ($2::timestamptz IS NULL OR "timestamp" >= $2)
  AND ($3::timestamptz IS NULL OR "timestamp" <= $3)
GROUP BY path
ORDER BY views DESC, path ASC
LIMIT 10
`
