package source

// Default queries aggregate the feed and messenger event tables into grid
// buckets. Column names other than ts, date and hm become metric names.

const postgresFeedSQL = `SELECT
        to_timestamp((floor(extract(epoch FROM time))::bigint / $1::bigint) * $1::bigint) AS ts,
        count(DISTINCT user_id) AS dau_feed,
        count(DISTINCT user_id) FILTER (WHERE action = 'view') AS views,
        count(DISTINCT user_id) FILTER (WHERE action = 'like') AS likes,
        round(
            (count(DISTINCT user_id) FILTER (WHERE action = 'like'))::numeric
            / NULLIF(count(DISTINCT user_id) FILTER (WHERE action = 'view'), 0),
            3
        ) AS ctr
    FROM feed_actions
    WHERE (time >= $2 AND time < $3)
       OR (time >= $4 AND time < $5)
    GROUP BY 1
    ORDER BY 1 DESC;`

const postgresMessagesSQL = `SELECT
        to_timestamp((floor(extract(epoch FROM time))::bigint / $1::bigint) * $1::bigint) AS ts,
        count(DISTINCT user_id) AS dau_messages,
        count(*) AS messages
    FROM message_actions
    WHERE (time >= $2 AND time < $3)
       OR (time >= $4 AND time < $5)
    GROUP BY 1
    ORDER BY 1 DESC;`

const sqliteFeedSQL = `SELECT
        (CAST(strftime('%s', time) AS INTEGER) / ?1) * ?1 AS ts,
        COUNT(DISTINCT user_id) AS dau_feed,
        COUNT(DISTINCT CASE WHEN action = 'view' THEN user_id END) AS views,
        COUNT(DISTINCT CASE WHEN action = 'like' THEN user_id END) AS likes,
        ROUND(
            CAST(COUNT(DISTINCT CASE WHEN action = 'like' THEN user_id END) AS REAL)
            / NULLIF(COUNT(DISTINCT CASE WHEN action = 'view' THEN user_id END), 0),
            3
        ) AS ctr
    FROM feed_actions
    WHERE (CAST(strftime('%s', time) AS INTEGER) >= ?2 AND CAST(strftime('%s', time) AS INTEGER) < ?3)
       OR (CAST(strftime('%s', time) AS INTEGER) >= ?4 AND CAST(strftime('%s', time) AS INTEGER) < ?5)
    GROUP BY 1
    ORDER BY 1 DESC;`

const sqliteMessagesSQL = `SELECT
        (CAST(strftime('%s', time) AS INTEGER) / ?1) * ?1 AS ts,
        COUNT(DISTINCT user_id) AS dau_messages,
        COUNT(*) AS messages
    FROM message_actions
    WHERE (CAST(strftime('%s', time) AS INTEGER) >= ?2 AND CAST(strftime('%s', time) AS INTEGER) < ?3)
       OR (CAST(strftime('%s', time) AS INTEGER) >= ?4 AND CAST(strftime('%s', time) AS INTEGER) < ?5)
    GROUP BY 1
    ORDER BY 1 DESC;`

// DefaultQueries returns the built-in feed and messages queries for a driver.
func DefaultQueries(driver string) []Query {
	switch driver {
	case DriverSQLite:
		return []Query{
			{Name: "feed", SQL: sqliteFeedSQL},
			{Name: "messages", SQL: sqliteMessagesSQL},
		}
	default:
		return []Query{
			{Name: "feed", SQL: postgresFeedSQL},
			{Name: "messages", SQL: postgresMessagesSQL},
		}
	}
}
