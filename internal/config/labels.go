package config

import "zeroledger/internal/models"

// DefaultSystemTemplate is the advisor instruction rendered with text/template.
// Fields: .LabelName, .Policy.
const DefaultSystemTemplate = `You are an expert Banking Resolution Advisor specializing in **{{.LabelName}}** cases.
You are an AI system analyzing historical data to provide guidance; you are NOT a bank employee handling the case directly.
Analyze the user's complaint and compare it with the policy context below.

Provide a suggested resolution plan including:
1. Acknowledge the issue with empathy.
2. Explain the specific policy or regulation (e.g., FCRA, Reg E) that likely applies based on the context.
3. List actionable next steps the customer should take to resolve this.
4. Describe what the bank is expected to do under these regulations.

Important Constraints:
- Do NOT use placeholders like '[insert reference number]'.
- Do NOT say 'I will investigate'. Instead, say 'The bank is required to investigate'.
- Be concise and helpful.

Policy context:
{{.Policy}}`

// DefaultLabels returns the sub-issue enumeration the classifier was trained
// on, each with its policy excerpt and a static fallback.
func DefaultLabels() []models.Label {
	return []models.Label{
		{
			ID:   "LABEL_0",
			Name: "Information belongs to someone else",
			Policy: "Complaint: There is a mortgage account on my credit report that belongs to my twin brother. We have similar names but different SSNs.\n" +
				"Resolution: This appears to be a 'mixed file' error. Under the FCRA, credit bureaus must ensure maximum possible accuracy. Action: Verify the consumer's personal identifiers (SSN, DOB). Separate the credit files immediately and send a confirmation of the correction.",
			Fallback: "This looks like a mixed credit file. Under the FCRA the bureau must verify your identifiers, separate the files and confirm the correction in writing.",
		},
		{
			ID:   "LABEL_1",
			Name: "Reporting company used your report improperly",
			Policy: "Complaint: A car dealership pulled my credit report yesterday, but I never visited them or applied for a loan.\n" +
				"Resolution: Accessing a consumer report without 'permissible purpose' violates the FCRA. Action: Investigation required. If the dealership cannot prove the consumer applied for credit, the hard inquiry must be removed/suppressed from the report.",
			Fallback: "A report pulled without permissible purpose violates the FCRA. The bank is required to investigate and remove the inquiry if no application can be shown.",
		},
		{
			ID:   "LABEL_2",
			Name: "Their investigation did not fix an error on your report",
			Policy: "Complaint: I disputed a late payment charge last month. You said it was verified, but I have a bank statement proving I paid on time.\n" +
				"Resolution: If a consumer provides new relevant information, the furnisher must conduct a reasonable reinvestigation. Action: Review the proof of payment provided. If valid, update the trade line to 'Current/Paid as Agreed' and notify all bureaus.",
			Fallback: "New evidence requires a reasonable reinvestigation. Submit your proof of payment; if valid the account must be updated and every bureau notified.",
		},
		{
			ID:   "LABEL_3",
			Name: "Account information incorrect",
			Policy: "Complaint: My credit card balance is showing as $5,000 on my report, but I paid it down to zero two weeks ago.\n" +
				"Resolution: Data furnishing issues often occur due to reporting cycles. However, furnishers must report accurate information. Action: Check the 'Date Reported'. If the payment was made after that date, explain the cycle. If the report is outdated, trigger an off-cycle update (AUD) to correct the balance.",
			Fallback: "Furnishers must report accurate balances. Compare the report date with your payment date; outdated data must be corrected with an off-cycle update.",
		},
		{
			ID:   "LABEL_4",
			Name: "Account status incorrect",
			Policy: "Complaint: My closed auto loan is marked as 'Voluntary Surrender' but I paid it off in full.\n" +
				"Resolution: Incorrect status codes can severely damage credit scores. Action: Audit the account history. If paid in full, update the account status code to '13' (Paid or closed/zero balance) or the appropriate Metro 2 code representing a positive closure.",
			Fallback: "An incorrect account status must be audited against the payment history and corrected to reflect a paid or closed account.",
		},
		{
			ID:   "LABEL_5",
			Name: "Credit inquiries on your report that you don't recognize",
			Policy: "Complaint: I see three hard inquiries from 'ABC Lending' on Jan 15th. I did not apply for credit with them.\n" +
				"Resolution: Unauthorized hard inquiries harm credit scores. Action: Validate permissible purpose with the inquirer. If fraud or error is confirmed, recode inquiries as 'soft' or delete them entirely.",
			Fallback: "Unrecognized hard inquiries must be validated with the inquirer. If there was no permissible purpose they must be recoded or deleted.",
		},
		{
			ID:   "LABEL_6",
			Name: "Investigation took more than 30 days",
			Policy: "Complaint: I filed a dispute 40 days ago regarding a fraudulent charge, and I still haven't received a final decision.\n" +
				"Resolution: The FCRA generally requires disputes to be resolved within 30 days. Failure to do so is a compliance violation. Action: Expedite the investigation immediately. If the information cannot be verified within the statutory window, the disputed item must be deleted from the file.",
			Fallback: "Disputes generally must be resolved within 30 days. Items that cannot be verified in that window must be deleted from the file.",
		},
		{
			ID:   "LABEL_7",
			Name: "Debt is not yours",
			Policy: "Complaint: A collection agency is calling me about a $200 medical bill for a person named 'John Doe'. My name is 'Jane Smith'.\n" +
				"Resolution: This is a violation of the FDCPA (Fair Debt Collection Practices Act). Action: Cease collection attempts immediately. Mark the debt as disputed and request validation of debt (VOD) from the original creditor. If confirmed as not belonging to the consumer, delete the trade line.",
			Fallback: "Under the FDCPA you can dispute the debt and request validation. Collection must pause and the trade line must be deleted if the debt is not yours.",
		},
		{
			ID:   "LABEL_8",
			Name: "Was not notified of investigation status or results",
			Policy: "Complaint: You closed my dispute last week, but I never received a letter telling me if you fixed the error or not.\n" +
				"Resolution: Consumers must be provided with the results of the reinvestigation (Notice of Results) within 5 business days of completion. Action: Resend the dispute resolution letter and a free copy of the updated credit report immediately.",
			Fallback: "Results of a reinvestigation must be sent within 5 business days of completion, together with a free copy of the updated report.",
		},
		{
			ID:   "LABEL_9",
			Name: "Personal information incorrect",
			Policy: "Complaint: My last name is spelled 'Smyth' on my report, but it is actually 'Smith'. Also, my old address is listed as current.\n" +
				"Resolution: Accuracy of header information is critical for identity verification. Action: Accept the consumer's proof of ID (Driver's License/Utility Bill). Update the name and address fields in the Metro 2 file header.",
			Fallback: "Provide proof of identity such as a driver's license or utility bill. The bank is required to correct the name and address on file.",
		},
		{
			ID:   "LABEL_10",
			Name: "Other",
			Policy: "Complaint: The ATM took my card and didn't give it back, and I was late to work because of it.\n" +
				"Resolution: This is a general service or hardware issue. Action: Block the captured card to prevent fraud. Issue a new card immediately via expedited shipping. Apologize for the inconvenience.",
			Fallback: "Your complaint has been recorded for review by a specialist, who will follow up with the applicable policy.",
		},
	}
}
