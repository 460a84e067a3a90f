package listing

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// IssueAnchorID is the portal's element id for an issue link, e.g. yq202506.
func IssueAnchorID(year, issue int) string {
	return fmt.Sprintf("yq%d%02d", year, issue)
}

// IssueRequest builds the first listing request for an issue. The URL
// carries year and issue query parameters for static fetches; the
// interactions expand the year and click the issue anchor when rendered.
func IssueRequest(baseURL string, year, issue int) (harvest.FetchRequest, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return harvest.FetchRequest{}, &harvest.PermanentFetchError{URL: baseURL, Err: harvest.ErrMalformedURL}
	}
	q := u.Query()
	q.Set("year", strconv.Itoa(year))
	q.Set("issue", fmt.Sprintf("%02d", issue))
	u.RawQuery = q.Encode()

	return harvest.FetchRequest{
		URL:          u.String(),
		Kind:         harvest.PageListing,
		Interactions: issueInteractions(year, issue),
	}, nil
}

func issueInteractions(year, issue int) []string {
	// Expanding the year is best effort; the current year is often open already.
	expandYear := fmt.Sprintf(`(() => {
  const year = %q;
  const dt = Array.from(document.querySelectorAll("dt")).find((el) => el.textContent.includes(year));
  if (dt) { dt.click(); }
  return true;
})()`, strconv.Itoa(year))
	selectIssue := fmt.Sprintf(`(() => {
  const link = document.getElementById(%q);
  if (!link) { return false; }
  link.click();
  return true;
})()`, IssueAnchorID(year, issue))
	return []string{expandYear, selectIssue}
}
