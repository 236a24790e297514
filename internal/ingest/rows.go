package ingest

import "time"

// Warehouse row schemas for the two content sources. Pointer fields insert as
// NULL when nil; list fields always insert as (possibly empty) arrays.

// RedditRow is one normalized Reddit post keyed by post_id + snapshot_id.
type RedditRow struct {
	PostID               *string        `bigquery:"post_id"`
	URL                  *string        `bigquery:"url"`
	UserPosted           *string        `bigquery:"user_posted"`
	Title                *string        `bigquery:"title"`
	Description          *string        `bigquery:"description"`
	NumComments          *int64         `bigquery:"num_comments"`
	DatePosted           *time.Time     `bigquery:"date_posted"`
	CommunityName        *string        `bigquery:"community_name"`
	NumUpvotes           *int64         `bigquery:"num_upvotes"`
	Photos               []string       `bigquery:"photos"`
	Videos               []string       `bigquery:"videos"`
	Tag                  *string        `bigquery:"tag"`
	RelatedPosts         []RelatedPost  `bigquery:"related_posts"`
	Comments             []Comment      `bigquery:"comments"`
	CommunityURL         *string        `bigquery:"community_url"`
	CommunityDescription *string        `bigquery:"community_description"`
	CommunityMembersNum  *int64         `bigquery:"community_members_num"`
	CommunityRank        *CommunityRank `bigquery:"community_rank"`
	PostKarma            *int64         `bigquery:"post_karma"`
	BioDescription       *string        `bigquery:"bio_description"`
	EmbeddedLinks        []string       `bigquery:"embedded_links"`
	Timestamp            *time.Time     `bigquery:"timestamp"`
	Input                *PostInput     `bigquery:"input"`
	ErrorCode            *string        `bigquery:"error_code"`
	Error                *string        `bigquery:"error"`
	WarningCode          *string        `bigquery:"warning_code"`
	Warning              *string        `bigquery:"warning"`
	SnapshotID           string         `bigquery:"snapshot_id"`
}

// RelatedPost is a post surfaced alongside the scraped one.
type RelatedPost struct {
	NumComments  *int64  `bigquery:"num_comments"`
	NumUpvotes   *int64  `bigquery:"num_upvotes"`
	Thumbnail    *string `bigquery:"thumbnail"`
	URL          *string `bigquery:"url"`
	Title        *string `bigquery:"title"`
	CommunityURL *string `bigquery:"community_url"`
	Community    *string `bigquery:"community"`
}

// Comment is a top-level comment on a Reddit post.
type Comment struct {
	Replies        []Reply    `bigquery:"replies"`
	NumReplies     *int64     `bigquery:"num_replies"`
	UserCommenting *string    `bigquery:"user_commenting"`
	NumUpvotes     *int64     `bigquery:"num_upvotes"`
	DateOfComment  *time.Time `bigquery:"date_of_comment"`
	URL            *string    `bigquery:"url"`
	UserURL        *string    `bigquery:"user_url"`
	Comment        *string    `bigquery:"comment"`
}

// Reply is a nested reply to a comment.
type Reply struct {
	NumReplies   *int64     `bigquery:"num_replies"`
	NumUpvotes   *int64     `bigquery:"num_upvotes"`
	DateOfReply  *time.Time `bigquery:"date_of_reply"`
	UserURL      *string    `bigquery:"user_url"`
	Reply        *string    `bigquery:"reply"`
	UserReplying *string    `bigquery:"user_replying"`
}

// CommunityRank is the subreddit's rank, present only when the source carried
// a truthy community_rank object.
type CommunityRank struct {
	Value *string `bigquery:"community_rank_value"`
	Type  *string `bigquery:"community_rank_type"`
}

// PostInput echoes the URL the scrape was requested with.
type PostInput struct {
	URL *string `bigquery:"url"`
}

// QuoraRow is one normalized Quora post keyed by post_id + snapshot_id.
type QuoraRow struct {
	Timestamp           *time.Time `bigquery:"timestamp"`
	AuthorEducation     *string    `bigquery:"author_education"`
	PostID              *string    `bigquery:"post_id"`
	TopComments         *string    `bigquery:"top_comments"`
	Views               *int64     `bigquery:"views"`
	Shares              *int64     `bigquery:"shares"`
	AuthorContentViews  *int64     `bigquery:"author_content_views"`
	PostDate            *time.Time `bigquery:"post_date"`
	Upvotes             *int64     `bigquery:"upvotes"`
	ExternalURLs        []string   `bigquery:"extarnal_urls"`
	PicturesURLs        []string   `bigquery:"pictures_urls"`
	Header              *string    `bigquery:"header"`
	AuthorJoinedDate    *time.Time `bigquery:"author_joined_date"`
	Input               *PostInput `bigquery:"input"`
	PostText            *string    `bigquery:"post_text"`
	VideosURLs          []string   `bigquery:"videos_urls"`
	OverAllAnswers      *int64     `bigquery:"over_all_answers"`
	OriginallyAnswered  *string    `bigquery:"originally_answered"`
	AuthorName          *string    `bigquery:"author_name"`
	AuthorAbout         *string    `bigquery:"author_about"`
	Error               *string    `bigquery:"error"`
	URL                 *string    `bigquery:"url"`
	ErrorCode           *string    `bigquery:"error_code"`
	AuthorActiveSpaces  *string    `bigquery:"author_active_spaces"`
	Title               *string    `bigquery:"title"`
	SnapshotID          string     `bigquery:"snapshot_id"`
}
