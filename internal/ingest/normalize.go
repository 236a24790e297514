package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotAList is returned when a delivered payload is not a JSON array.
var ErrNotAList = errors.New("payload is not a JSON array")

// NormalizeBatch converts a raw delivered payload into warehouse rows for the
// given source. The payload must be a JSON array of objects; anything else
// aborts the batch before any row is built. Individual fields are coerced
// independently, so a record with one bad field still yields a row.
func NormalizeBatch(source Source, snapshotID string, payload []byte) (any, int, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotAList, err)
	}

	switch source {
	case SourceReddit:
		rows := make([]RedditRow, 0, len(records))
		for _, raw := range records {
			rows = append(rows, normalizeRedditPost(asObject(raw), snapshotID))
		}
		return rows, len(rows), nil
	case SourceQuora:
		rows := make([]QuoraRow, 0, len(records))
		for _, raw := range records {
			rows = append(rows, normalizeQuoraPost(asObject(raw), snapshotID))
		}
		return rows, len(rows), nil
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
}

// asObject decodes a record into a generic object. A record that is not an
// object decodes to an empty map, which normalizes to an all-null row rather
// than dropping the record.
func asObject(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return map[string]any{}
	}
	return obj
}

func normalizeRedditPost(post map[string]any, snapshotID string) RedditRow {
	row := RedditRow{
		PostID:               toString(post["post_id"]),
		URL:                  toString(post["url"]),
		UserPosted:           toString(post["user_posted"]),
		Title:                toString(post["title"]),
		Description:          toString(post["description"]),
		NumComments:          toInt(post["num_comments"]),
		DatePosted:           parseTimestamp(post["date_posted"]),
		CommunityName:        toString(post["community_name"]),
		NumUpvotes:           toInt(post["num_upvotes"]),
		Photos:               toStringList(post["photos"]),
		Videos:               toStringList(post["videos"]),
		Tag:                  toString(post["tag"]),
		RelatedPosts:         normalizeRelatedPosts(post["related_posts"]),
		Comments:             normalizeComments(post["comments"]),
		CommunityURL:         toString(post["community_url"]),
		CommunityDescription: toString(post["community_description"]),
		CommunityMembersNum:  toInt(post["community_members_num"]),
		PostKarma:            toInt(post["post_karma"]),
		BioDescription:       toString(post["bio_description"]),
		EmbeddedLinks:        toStringList(post["embedded_links"]),
		Timestamp:            parseTimestamp(post["timestamp"]),
		ErrorCode:            toString(post["error_code"]),
		Error:                toString(post["error"]),
		WarningCode:          toString(post["warning_code"]),
		Warning:              toString(post["warning"]),
		SnapshotID:           snapshotID,
	}

	// Nested objects stay null unless the source carried a value; an absent
	// community_rank must not become an object of nulls.
	if rank := toObject(post["community_rank"]); rank != nil {
		row.CommunityRank = &CommunityRank{
			Value: stringify(rank["community_rank_value"]),
			Type:  toString(rank["community_rank_type"]),
		}
	}
	if input := toObject(post["input"]); input != nil {
		row.Input = &PostInput{URL: toString(input["url"])}
	}
	return row
}

func normalizeRelatedPosts(v any) []RelatedPost {
	objs := toObjectList(v)
	out := make([]RelatedPost, 0, len(objs))
	for _, rp := range objs {
		out = append(out, RelatedPost{
			NumComments:  toInt(rp["num_comments"]),
			NumUpvotes:   toInt(rp["num_upvotes"]),
			Thumbnail:    toString(rp["thumbnail"]),
			URL:          toString(rp["url"]),
			Title:        toString(rp["title"]),
			CommunityURL: toString(rp["community_url"]),
			Community:    toString(rp["community"]),
		})
	}
	return out
}

func normalizeComments(v any) []Comment {
	objs := toObjectList(v)
	out := make([]Comment, 0, len(objs))
	for _, c := range objs {
		comment := Comment{
			NumReplies:     toInt(c["num_replies"]),
			UserCommenting: toString(c["user_commenting"]),
			NumUpvotes:     toInt(c["num_upvotes"]),
			DateOfComment:  parseTimestamp(c["date_of_comment"]),
			URL:            toString(c["url"]),
			UserURL:        toString(c["user_url"]),
			Comment:        toString(c["comment"]),
		}
		replies := toObjectList(c["replies"])
		comment.Replies = make([]Reply, 0, len(replies))
		for _, r := range replies {
			comment.Replies = append(comment.Replies, Reply{
				NumReplies:   toInt(r["num_replies"]),
				NumUpvotes:   toInt(r["num_upvotes"]),
				DateOfReply:  parseTimestamp(r["date_of_reply"]),
				UserURL:      toString(r["user_url"]),
				Reply:        toString(r["reply"]),
				UserReplying: toString(r["user_replying"]),
			})
		}
		out = append(out, comment)
	}
	return out
}

func normalizeQuoraPost(post map[string]any, snapshotID string) QuoraRow {
	row := QuoraRow{
		Timestamp:          parseTimestamp(post["timestamp"]),
		AuthorEducation:    toString(post["author_education"]),
		PostID:             toString(post["post_id"]),
		TopComments:        toString(post["top_comments"]),
		Views:              toInt(post["views"]),
		Shares:             toInt(post["shares"]),
		AuthorContentViews: toInt(post["author_content_views"]),
		PostDate:           parseTimestamp(post["post_date"]),
		Upvotes:            toInt(post["upvotes"]),
		ExternalURLs:       toStringList(post["extarnal_urls"]),
		PicturesURLs:       toStringList(post["pictures_urls"]),
		Header:             toString(post["header"]),
		AuthorJoinedDate:   parseTimestamp(post["author_joined_date"]),
		PostText:           toString(post["post_text"]),
		VideosURLs:         toStringList(post["videos_urls"]),
		OverAllAnswers:     toInt(post["over_all_answers"]),
		OriginallyAnswered: toString(post["originally_answered"]),
		AuthorName:         toString(post["author_name"]),
		AuthorAbout:        toString(post["author_about"]),
		Error:              toString(post["error"]),
		URL:                toString(post["url"]),
		ErrorCode:          toString(post["error_code"]),
		AuthorActiveSpaces: toString(post["author_active_spaces"]),
		Title:              toString(post["title"]),
		SnapshotID:         snapshotID,
	}
	if input := toObject(post["input"]); input != nil {
		row.Input = &PostInput{URL: toString(input["url"])}
	}
	return row
}

// stringify renders scalar values as strings; the provider sends rank values
// as either strings or numbers.
func stringify(v any) *string {
	switch val := v.(type) {
	case string:
		return &val
	case float64:
		s := trimFloat(val)
		return &s
	default:
		return nil
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
