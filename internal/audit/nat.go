package audit

import "github.com/HerbHall/sitecheck/pkg/models"

// ClassifyNAT compares a router's WAN addresses with the public IP seen from
// outside. An unknown public IP yields no classification.
func ClassifyNAT(publicIP string, wanIPs []string) models.NATStatus {
	if !(models.WANSummary{PublicIP: publicIP}).PublicIPKnown() {
		return models.NATUnknown
	}
	for _, ip := range wanIPs {
		if ip == publicIP {
			return models.NATBridge
		}
	}
	return models.NATDouble
}

// classifyRouters sets the NAT status on every online router result.
func classifyRouters(p *models.ReportPayload) {
	for gi := range p.Groups {
		results := p.Groups[gi].Results
		for i := range results {
			dr := &results[i]
			if dr.Device.Family != models.FamilyRouter || !dr.Result.Online {
				continue
			}
			dr.Result.NAT = ClassifyNAT(p.WAN.PublicIP, dr.Result.WANIPs)
		}
	}
}
